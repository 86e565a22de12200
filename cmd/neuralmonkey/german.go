package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cifkao/neuralmonkey/pkg/processors"
	"github.com/pkg/errors"
)

func runGerman(args []string, post bool) error {
	name := "preprocess"
	if post {
		name = "postprocess"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	noCompounding := fs.Bool("no-compounding", false, "leave compound markers alone")
	noContracting := fs.Bool("no-contracting", false, "leave contractions alone")
	noPronouns := fs.Bool("no-pronouns", false, "leave pronoun endings alone")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := processors.GermanConfig{
		Compounding: !*noCompounding,
		Contracting: !*noContracting,
		Pronouns:    !*noPronouns,
	}
	process := processors.NewGermanPreprocessor(cfg).Process
	if post {
		process = processors.NewGermanPostprocessor(cfg).Process
	}

	scanner := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for scanner.Scan() {
		fmt.Fprintln(out, strings.Join(process(strings.Fields(scanner.Text())), " "))
	}
	return errors.Wrap(scanner.Err(), "reading stdin")
}
