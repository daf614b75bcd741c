package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// confirm asks a y/n question until it gets one of the two answers. End of
// input counts as no.
func confirm(in io.Reader, out io.Writer, msg string) (bool, error) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s (y/n) --> ", msg)
		response, err := reader.ReadString('\n')
		switch strings.TrimSpace(strings.ToLower(response)) {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
}
