package output

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm writes prompt and reports whether the next input line is "y".
// End of input counts as no.
func Confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(out)
		return false
	}
	return strings.ToLower(strings.TrimSpace(line)) == "y"
}
