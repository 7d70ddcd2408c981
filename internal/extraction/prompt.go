package extraction

// extractPrompt instructs the vision model to read a retail flyer page and
// emit a structured product list. The response must be a bare JSON array;
// parsePassOutput still tolerates surrounding prose.
const extractPrompt = `You are reading a Brazilian supermarket flyer page. List every product offer visible in the image.

For each product output:
- "name": the product name as printed (brand included when printed)
- "price": the promotional price in BRL as a number (e.g. 24.90)
- "original_price": the pre-promotion price if printed, else omit
- "unit": one of "kg", "un", "l", "g", "ml", "pack"
- "validity": offer end date as "YYYY-MM-DD" if printed, else omit
- "market_origin": the store/chain name if printed on the page, else omit

Respond with ONLY a valid JSON array, no other text:
[{"name": "...", "price": 0.0, "unit": "un"}]

If the page contains no product offers, respond with [].`
