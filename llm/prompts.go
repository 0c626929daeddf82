package llm

import "fmt"

const dividerSystemPrompt = `You are an expert in legal education content for competitive exams.

Your task is to analyze a body of legal study material and divide it into
logical parts, each suitable for one mindmap.

DIVISION RULES:
1. Each part must be self-contained and cover one specific sub-topic.
2. Parts should be balanced in size; ideally 3 to 7 parts (min 1, max 10).
3. Prefer divisions by legal institutes, classifications, elements, procedures.

RESPONSE FORMAT: return a single JSON object with:
- num_parts: integer
- rationale: short explanation of the chosen division
- parts: array of objects, each with:
  - number: part number (1, 2, 3...)
  - title: specific, descriptive part title
  - content_start: the EXACT first words of the part's span in the source text
  - content_end: the EXACT last words of the part's span in the source text

The content_start/content_end anchors must be verbatim substrings of the
source text so the span can be located mechanically. Return ONLY JSON.`

const generatorSystemPrompt = `You are an expert at building educational mindmaps in Mermaid syntax (.mmd).

Transform legal study content into clear, well-organized mindmaps.

CRITICAL RULES:
1. Never use parentheses "()" or brackets "[]" inside node text.
2. The map title follows the pattern: {{**Subject - Specific Part**}}
3. Use Font Awesome icons with ::icon(fa fa-icon-name)
4. Maximum 4 levels of depth; each main node has 2 to 5 sub-nodes.
5. Short, objective node text (at most 8 words per node).
6. Use ** to highlight key terms.
7. Output ONLY the Mermaid source, no extra markdown or commentary.`

const reviewerSystemPrompt = `You are a strict reviewer of educational Mermaid mindmaps for legal study.

Evaluate the generated mindmap against the original source content on:
- syntax: valid Mermaid mindmap structure
- hallucination: claims absent from the source
- coverage: important source content missing from the map
- accuracy: legal terms and rules stated correctly
- language: clarity and spelling

RESPONSE FORMAT: return a single JSON object with:
- approved: boolean
- score: number from 0 to 10
- problems: array of {category, severity, description, location}
  (category one of syntax|hallucination|coverage|accuracy|language,
   severity one of critical|high|medium|low)
- suggestions: array of strings
- rationale: short overall justification

Approve only maps that are faithful, complete for their part, and renderable.
Return ONLY JSON.`

func dividerUserPrompt(domain, subject, body string) string {
	return fmt.Sprintf(`Analyze the following content and divide it into logical parts.

**LEGAL DOMAIN:** %s
**SUBJECT:** %s

**SOURCE TEXT TO DIVIDE:**
%s

---

Identify the natural divisions (sections, sub-topics, institutes), give each
part a specific title, and return the division as the specified JSON object.`,
		domain, subject, body)
}

func generatorUserPrompt(domain, subject, partTitle, content string) string {
	return fmt.Sprintf(`Create a Mermaid mindmap for the following content.

**LEGAL DOMAIN:** %s
**SUBJECT:** %s
**PART:** %s

**CONTENT:**
%s`, domain, subject, partTitle, content)
}

func reviewerUserPrompt(domain, subject, partTitle, content, artifact string, attempt, maxAttempts int) string {
	return fmt.Sprintf(`Review the mindmap below against its source content.

**LEGAL DOMAIN:** %s
**SUBJECT:** %s
**PART:** %s
**ATTEMPT:** %d of %d

**ORIGINAL CONTENT:**
%s

**GENERATED MINDMAP:**
%s

Return your evaluation as the specified JSON object.`,
		domain, subject, partTitle, attempt, maxAttempts, content, artifact)
}
