package heal

// correctionSystem is the system prompt for full-sequence corrections.
// Args: command language reference.
const correctionSystem = `You repair failing browser tests. Answer with the complete corrected
command sequence, one command per line, and nothing else.

%s`

// correctionPrompt args: description, category, category hint, failed
// command index, failed command, error, url, selectors, history, current
// commands, snapshot.
const correctionPrompt = `This browser test failed.

Test:
%s

Failure category: %s
%s

Failed command #%d:
%s

Error:
%s

Page URL at failure: %s

Selectors present on the page:
%s
%s
Current commands:
%s

Page snapshot:
%s

Return the full corrected command sequence.`

// historySection args: condensed prior attempts.
const historySection = `
Earlier attempts that also failed:
%s
`

// selectorPrompt args: command, failing selector, error, strategies,
// selectors, snapshot.
const selectorPrompt = `A browser command failed because of its selector.

Command:
%s

Failing selector: %s

Error:
%s

Selector strategies: %s.

Selectors present on the page:
%s

Page snapshot:
%s

Respond with JSON only:
{"primary": {"strategy": "...", "value": "..."},
 "fallbacks": [{"strategy": "...", "value": "..."}],
 "confidence": 0.0,
 "reasoning": "..."}
The primary selector must match exactly one element.`
