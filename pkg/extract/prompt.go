package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The templates embed a strict output contract: the model must return
// a single JSON object with "entities" and "relationships" arrays
// whose fields match the Entity and Relationship attributes exactly.

const outputContract = `Return ONLY a JSON object with this exact structure:
{
    "entities": [
        {
            "name": "entity name",
            "type": "entity type (e.g. Organization, Product, System, Standard)",
            "description": "short description",
            "relevance_score": 0.0
        }
    ],
    "relationships": [
        {
            "from": "entity name",
            "to": "entity name",
            "relation": "one of: part_of, related_to, depends_on, defines, measures (or a short custom label)",
            "description": "relationship description",
            "confidence": 0.0
        }
    ]
}
Scores and confidences are numbers between 0 and 1. Do not add prose around the JSON.`

const textPromptTemplate = `Analyze the following text content and extract entities and their relationships.

Text content:
%s

Focus on:
- technical terms and domain vocabulary
- people, places, organizations
- product names, models, specifications
- values, dates, standards
- important concepts and definitions

%s`

const tablePromptTemplate = `Analyze the following table content and extract the entities and relationships it encodes.

Table caption: %s
Table content:
%s

Focus on headers, parameters, data points and the standards or units they refer to.

%s`

const equationPromptTemplate = `Analyze the following equation and extract the entities it involves (quantities, symbols, constants, referenced standards) and their relationships.

Equation source (%s):
%s

%s`

const imagePromptTemplate = `Analyze the following figure reference from a parsed document and extract any entities and relationships its caption describes.

Image path: %s
Caption: %s

%s`

const relationshipPromptTemplate = `Given the following entities extracted from one document, propose the relationships that likely hold between them.

Entity list:
%s

Only relate entities from the list. %s`

const analysisPromptTemplate = `Analyze the structure of the following document content blocks and describe the document.

Content blocks:
%s

Return ONLY a JSON object with this exact structure:
{
    "document_info": {
        "title": "document title",
        "type": "document type",
        "domain": "subject domain",
        "language": "main language"
    }
}
Do not add prose around the JSON.`

// BuildPrompt renders the extraction prompt for a batch, selecting the
// template by the batch's dominant content kind.
func BuildPrompt(batch Batch) string {
	switch batch.Kind {
	case KindTable:
		block := batch.Blocks[0]
		caption := block.TableCaption
		if caption == "" {
			caption = "untitled table"
		}
		return fmt.Sprintf(tablePromptTemplate, caption, formatTable(block.TableBody), outputContract)

	case KindEquation:
		block := batch.Blocks[0]
		format := block.TextFormat
		if format == "" {
			format = "plain"
		}
		return fmt.Sprintf(equationPromptTemplate, format, block.Text, outputContract)

	case KindImage:
		block := batch.Blocks[0]
		caption := block.ImageCaption
		if caption == "" {
			caption = "no caption"
		}
		return fmt.Sprintf(imagePromptTemplate, block.ImagePath, caption, outputContract)

	default:
		return fmt.Sprintf(textPromptTemplate, renderBlocks(batch.Blocks), outputContract)
	}
}

// BuildRelationshipPrompt renders the relationship-inference prompt
// over a bounded list of entity names.
func BuildRelationshipPrompt(names []string) string {
	data, _ := json.MarshalIndent(names, "", "  ")
	return fmt.Sprintf(relationshipPromptTemplate, string(data), outputContract)
}

// BuildAnalysisPrompt renders the whole-document analysis prompt from
// a representative block sample.
func BuildAnalysisPrompt(sample []blockPreview) string {
	data, _ := json.MarshalIndent(sample, "", "  ")
	return fmt.Sprintf(analysisPromptTemplate, string(data))
}

// renderBlocks lays a mixed batch out in original order. Structured
// blocks that were combined into a text batch keep a readable form.
func renderBlocks(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch block.Kind {
		case KindTable:
			caption := block.TableCaption
			if caption == "" {
				caption = "untitled table"
			}
			parts = append(parts, "Table ("+caption+"):\n"+formatTable(block.TableBody))
		case KindEquation:
			parts = append(parts, "Equation: "+block.Text)
		case KindImage:
			parts = append(parts, "Figure: "+block.ImagePath+" ("+block.ImageCaption+")")
		default:
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
