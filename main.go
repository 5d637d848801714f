package main

import (
	"github.com/Mmx233/QTalk/cmd"
)

func main() {
	cmd.Execute()
}
