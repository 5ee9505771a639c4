package scanning

// systemInstruction frames the model as an expense auditor for a trucking fleet
const systemInstruction = `You are a logistics data auditor for a Philippine trucking company.
You read receipts and invoices submitted by drivers and office staff and extract structured expense data.`

// receiptScanPrompt is shared by all providers
const receiptScanPrompt = `Analyze this receipt or invoice and extract:

1. vendor_name: the merchant's full name as printed at the top of the receipt.
2. vendor_tin: the merchant's TIN (tax identification number) if printed.
3. vendor_branch: the specific branch or location of the merchant.
4. document_type: exactly one of "Official Receipt", "Sales Invoice", "Billing Statement", "Other".
5. receipt_date: the transaction date in YYYY-MM-DD format.
6. currency: ISO currency code, default PHP.
7. subtotal, tax, total: numbers only (e.g. 4200.50). If VAT is not itemized, assume 12% VAT is included in the total.
8. payment_method: cash, card, fleet card, e-wallet, etc.
9. invoice_or_receipt_no: the OR / SI / invoice number as printed.
10. line_items: list of {description, quantity, unit_price, amount} as visible.
11. suggested_category: one of fuel, tolls, maintenance, tires, parts, parking, meals, lodging, supplies, insurance, permits, fees, phone_internet, office, other.
12. category_confidence: your confidence in suggested_category from 0.0 to 1.0.
13. notes: anything unusual (handwritten corrections, partially legible totals).

Rules:
- Return ONLY a valid JSON object. No markdown, no commentary.
- Use null for any field that is missing or unreadable. Do not guess.
- Amounts must be numbers, not strings.`
