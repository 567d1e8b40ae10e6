package extract

import "fmt"

const systemPrompt = "You are a precise financial document parser. You read e-transfer " +
	"notification emails forwarded from banks and payment networks and extract " +
	"structured payment data. Always respond with valid JSON."

// buildExtractionPrompt asks for exactly the fields the pipeline needs.
// Amounts are requested in integer cents to avoid float drift.
func buildExtractionPrompt(subject, body string) string {
	return fmt.Sprintf(`Extract the payment details from this e-transfer notification email.

**Subject:**
%s

**Body:**
%s

Respond with a JSON object of this exact shape:
{
  "sender_name": "full name of the person who sent the money, or null",
  "amount_cents": integer amount in cents (e.g. $950.00 -> 95000), or null,
  "reference_number": "the payment network reference or confirmation number, or null",
  "confidence": number between 0.0 and 1.0 for how confident you are in the extraction
}

Rules:
- Use null for any field not clearly present in the email.
- sender_name is the payer, not the bank or the recipient.
- Never invent a reference number.`, subject, body)
}
