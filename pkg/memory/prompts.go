package memory

const summarizePrompt = `You condense passages of an interactive story into memory notes.

Summarize the passage below in two to four sentences. Keep names, places,
objects and promises that later scenes may depend on. Write in past tense and
third person. Output only the summary.`

const classifyPrompt = `You tag memory notes from an interactive story.

Identify the single most important named entity in the passage and the kind of
memory it represents. Kinds:
- PLOT: a development in the main storyline
- CHARACTER: something learned about a character
- EVENT: a discrete happening at a specific moment
- LORE: a fact about the world, its history or its rules
- OTHER: none of the above

Respond with JSON only, no prose and no code fences:
{"entity_name": "<name or empty string>", "type": "<PLOT|CHARACTER|EVENT|LORE|OTHER>"}`
