// Command linesink accepts newline-delimited text over TCP from many
// clients at once and appends every line to one ordered output stream.
package main

func main() {
	Execute()
}
