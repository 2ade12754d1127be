package drive

import "regexp"

// fileIDPattern matches runs of characters Drive uses in file IDs. Real IDs
// are at least 25 characters long, which rules out path segments such as
// "file", "view", or "open".
var fileIDPattern = regexp.MustCompile(`[A-Za-z0-9_-]{25,}`)

// ExtractFileID pulls a file ID out of a bare ID or any Drive URL that
// embeds one ("/file/d/<id>/view", "open?id=<id>", ...). The longest
// matching run wins. Returns "" when s contains no plausible ID.
func ExtractFileID(s string) string {
	var best string

	for _, m := range fileIDPattern.FindAllString(s, -1) {
		if len(m) > len(best) {
			best = m
		}
	}

	return best
}
