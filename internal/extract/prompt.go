package extract

import (
	"strings"

	"github.com/JakeFAU/company-enricher/internal/llm"
)

const promptHead = `You are analyzing a company's website content.

Please extract the following, and be as detailed as possible:
1. "product_name": List ALL products or services. Be specific, not just general (e.g., list 'Jeans, Jackets' instead of 'Clothing').
2. "product_function": Describe clearly what each product or service does.
3. "product_location": Where the company operates or offers services.
4. "product_qual": Certifications, awards, standards mentioned.

Return STRICT JSON format:
{
  "product_name": "...",
  "product_function": "...",
  "product_location": "...",
  "product_qual": "..."
}

No explanation, no notes, only JSON.
Here is the website text:
---
`

// Prompt returns the extraction instruction for text, truncated to the configured rune count.
func (e *Extractor) Prompt(text string) string {
	return strings.TrimSpace(promptHead + llm.Truncate(text, e.cfg.MaxChars) + "\n---")
}
