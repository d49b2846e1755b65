// Command dnctl talks to DirectNet PLCs from the command line and runs a
// software stand-in device.
package main

func main() {
	Execute()
}
