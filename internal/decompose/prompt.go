package decompose

// planPrompt asks for ordered atomic steps. Args: instruction, url, snapshot.
const planPrompt = `Break this browser test instruction into atomic, sequentially ordered steps.
Each step must be a single user action or a single check (one click, one fill, one assertion).

Instruction:
%s

Current page: %s

Page snapshot:
%s

Return ONLY a numbered list, one step per line:
1. first step
2. second step`

// generateSystem is the system prompt for the per-step and refinement passes.
const generateSystem = `You translate browser test steps into commands.
Answer with exactly one command line and nothing else.

%s`

// generatePrompt asks for one command. Args: step, instruction, url,
// selector hints, snapshot.
const generatePrompt = `Step to perform:
%s

This step is part of the instruction:
%s

Current page: %s

Selectors that uniquely match an element on this page:
%s

Page snapshot:
%s

Return the single command for this step.`

// refinePrompt asks for a corrected command. Args: step, command, issues,
// selector hints, snapshot.
const refinePrompt = `The command generated for this step failed validation.

Step:
%s

Command:
%s

Issues:
%s

Selectors that uniquely match an element on this page:
%s

Page snapshot:
%s

Return one corrected command whose selector matches exactly one element.`

// iterativeSystem drives open-ended decomposition, one command per turn.
const iterativeSystem = `You drive a browser to accomplish a test instruction, one command at a time.
Answer with exactly one command line. When the instruction is fully covered,
answer with the single word DONE.

%s`

// iterativePrompt opens the conversation. Args: instruction, url, selector
// hints, snapshot.
const iterativePrompt = `Instruction:
%s

Current page: %s

Selectors that uniquely match an element on this page:
%s

Page snapshot:
%s

Return the first command, or DONE.`

// iterativeNextPrompt continues it. Args: outcome of the previous answer.
const iterativeNextPrompt = `%s
Return the next command, or DONE.`
