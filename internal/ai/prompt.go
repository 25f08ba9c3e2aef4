package ai

import (
	"fmt"
	"strings"
)

// Analysis types with dedicated prompt templates. Any other value falls back
// to the general template with the type named in the instructions.
const (
	AnalysisGeneral             = "general"
	AnalysisSearchResults       = "search_results"
	AnalysisResearchSuggestions = "research_suggestions"
)

const systemPrompt = "You are an expert bioinformatician specializing in mass-spectrometry proteomics and the PRIDE Archive."

// BuildPrompt composes the instruction sent to the generative backend.
func BuildPrompt(req Request) string {
	var b strings.Builder

	switch req.AnalysisType {
	case AnalysisSearchResults:
		b.WriteString("You are analyzing proteomics search results from the PRIDE Archive database.\n\n")
		writeContext(&b, req.Context, "Original query")
		b.WriteString("Search results:\n")
		b.WriteString(req.Data)
		b.WriteString("\n\nPlease provide:\n")
		b.WriteString("1. A summary of what was found\n")
		b.WriteString("2. The significance of these results\n")
		b.WriteString("3. Suggestions for next steps in research\n")
		b.WriteString("4. Any notable patterns in the data\n\n")
		b.WriteString("Keep the response concise and focused on the scientific value of the results.")
	case AnalysisResearchSuggestions:
		b.WriteString("You are a research advisor analyzing a proteomics project.\n\n")
		writeContext(&b, req.Context, "Context")
		b.WriteString("Project data:\n")
		b.WriteString(req.Data)
		b.WriteString("\n\nBased on this project data, please suggest:\n")
		b.WriteString("1. Potential follow-up experiments\n")
		b.WriteString("2. Related research directions\n")
		b.WriteString("3. Collaboration opportunities\n")
		b.WriteString("4. Data analysis approaches\n\n")
		b.WriteString("Focus on actionable suggestions that could advance the field.")
	default:
		analysisType := req.AnalysisType
		if analysisType == "" {
			analysisType = AnalysisGeneral
		}
		fmt.Fprintf(&b, "Perform a %s analysis of the following proteomics data.\n\n", analysisType)
		writeContext(&b, req.Context, "Context")
		b.WriteString("Data:\n")
		b.WriteString(req.Data)
		b.WriteString("\n\nPlease provide:\n")
		b.WriteString("1. A summary of the key findings\n")
		b.WriteString("2. Biological significance of the data\n")
		b.WriteString("3. Potential research implications\n")
		b.WriteString("4. Any notable patterns or anomalies\n\n")
		b.WriteString("Format the response in a clear, scientific manner suitable for researchers.")
	}

	return b.String()
}

func writeContext(b *strings.Builder, ctx, label string) {
	if strings.TrimSpace(ctx) == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n\n", label, ctx)
}
