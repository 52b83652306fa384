// Command mender turns natural-language browser test intents into DSL
// commands, runs them, and repairs failing steps with a language model.
package main

func main() {
	Execute()
}
