package main

import "github.com/JAGGU8160/blog-app/cmd"

func main() {
	cmd.Execute()
}
