package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("smithkit %s (%s, %s)", Version, Commit, Date)
}

// UserAgent is sent on every LangSmith API request.
func UserAgent() string {
	return "smithkit/" + Version
}
