package main

var version = "0.3.0"

func main() {
	Execute()
}
