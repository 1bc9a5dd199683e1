// Package binding patches job parameters into workflow templates.
//
// A workflow declares once which node (and optionally which input) receives
// each semantic key such as video, person, prompt, or seed. Binder resolves
// those declarations against a cloned template, retimes frame counts from the
// source video, and expands LoRA lists into the engine's lora_N stack format.
// Every referenced node is verified before the first write so a failed bind
// leaves the template untouched.
package binding
