package main

import (
	"fmt"
	"log"
	"os"
)

func main() {
	mode := "help"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	args := os.Args[min(2, len(os.Args)):]

	var err error
	switch mode {
	case "train":
		err = runTrain(args)
	case "preprocess":
		err = runGerman(args, false)
	case "postprocess":
		err = runGerman(args, true)
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Printf("Unknown mode: %s\n", mode)
		printHelp()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// printHelp displays usage information
func printHelp() {
	fmt.Println("\nUsage: neuralmonkey <mode> [flags]")
	fmt.Println("\nAvailable modes:")
	fmt.Println("  train        - Train a toy two-headed model with the generic trainer")
	fmt.Println("  preprocess   - Apply the German preprocessing rules to stdin, one sentence per line")
	fmt.Println("  postprocess  - Undo the German preprocessing on stdin, one sentence per line")
	fmt.Println("  help         - Display this help message")
	fmt.Println("\nRun a mode with -h to list its flags.")
}
