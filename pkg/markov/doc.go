/*
Package markov implements an order-2 word Markov chain for text generation.

A Matrix maps each two-word context to a Sampler of the words observed after
it. Training slides a two-word window over a token stream and records one
transition per token; generation starts from a context and repeatedly draws
the next word until it reaches the requested length or a context with no
continuations.

Both pipelines come in a synchronous form (Train, Generate) and a chunked,
resumable form (TrainTask, GenerateTask) whose Step method performs one chunk
of work. Run drives any Task with a pause between chunks. Chunking never
changes the result: a TrainTask produces exactly the matrix a single Train
over the same text would.

SuggestSeed picks a starting context related to arbitrary input text, falling
back to a uniformly random context.
*/
package markov
