package main

import "github.com/andresmejia3/moodscan/cmd"

func main() {
	cmd.Execute()
}
