package main

import "crossforge/internal/crossforge"

func main() {
	crossforge.Main()
}
