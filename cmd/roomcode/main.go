package main

import (
	"fmt"
	"os"
	"strconv"

	"komnata/internal/content"
)

func main() {
	n := 1
	if len(os.Args) == 2 {
		v, err := strconv.Atoi(os.Args[1])
		if err != nil || v < 1 {
			fmt.Println("Usage: roomcode [count]")
			os.Exit(1)
		}
		n = v
	} else if len(os.Args) > 2 {
		fmt.Println("Usage: roomcode [count]")
		os.Exit(1)
	}

	for range n {
		fmt.Println(content.GenerateRoomCode())
	}
}
