// Command stepwise plans, approves and executes capability DAGs from the terminal.
package main

func main() {
	Execute()
}
