package eval

import (
	"strings"
	"unicode"

	"github.com/coderag/coderag/internal/store"
)

// Source roots stripped before filepath to classpath conversion.
var javaSourceRoots = []string{"src/main/java/", "src/test/java/"}

// NormalizeOptions controls how predictions and ground truth are
// mapped onto comparable identifiers.
type NormalizeOptions struct {
	// ConvertFilepathToClasspath rewrites Java file paths as dotted
	// classpaths before comparison.
	ConvertFilepathToClasspath bool

	// IgnoreMethodNames trims a trailing lowercase-initial segment,
	// which in practice is a method suffix on a classpath.
	IgnoreMethodNames bool
}

// FilepathToClasspath converts a Java source path into its dotted
// classpath: source roots stripped, .java dropped, separators dotted.
func FilepathToClasspath(path string, ignoreMethodNames bool) string {
	cp := strings.ReplaceAll(path, "\\", "/")
	for _, root := range javaSourceRoots {
		if strings.HasPrefix(cp, root) {
			cp = strings.TrimPrefix(cp, root)
			break
		}
	}
	cp = strings.TrimSuffix(cp, ".java")
	cp = strings.ReplaceAll(cp, "/", ".")
	if ignoreMethodNames {
		cp = trimMethodSuffix(cp)
	}
	return cp
}

// trimMethodSuffix drops the last dotted segment when it starts with a
// lowercase letter. Class names are uppercase-initial by convention,
// so a lowercase tail is almost always a method name.
func trimMethodSuffix(classpath string) string {
	idx := strings.LastIndex(classpath, ".")
	if idx < 0 || idx == len(classpath)-1 {
		return classpath
	}
	tail := []rune(classpath[idx+1:])
	if unicode.IsLower(tail[0]) {
		return classpath[:idx]
	}
	return classpath
}

// LooksLikeClasspath reports whether the identifier is already a
// dotted classpath rather than a file path.
func LooksLikeClasspath(s string) bool {
	return strings.Contains(s, ".") &&
		!strings.HasSuffix(s, ".java") &&
		!strings.ContainsRune(s, '/')
}

// PredictionID extracts the identifier used for metric matching. With
// conversion enabled and a file path present, the classpath is used;
// otherwise the raw content stands in.
func PredictionID(result *store.RetrievalResult, opts NormalizeOptions) string {
	if opts.ConvertFilepathToClasspath && result.FilePath != "" {
		return FilepathToClasspath(result.FilePath, opts.IgnoreMethodNames)
	}
	return result.Content
}

// NormalizeGroundTruth maps the dataset answers onto the same
// identifier space as the predictions. Entries already shaped like
// classpaths pass through untouched.
func NormalizeGroundTruth(answers []string, opts NormalizeOptions) []string {
	out := make([]string, len(answers))
	for i, answer := range answers {
		out[i] = answer
		if !opts.ConvertFilepathToClasspath {
			continue
		}
		if LooksLikeClasspath(answer) {
			if opts.IgnoreMethodNames {
				out[i] = trimMethodSuffix(answer)
			}
			continue
		}
		if strings.HasSuffix(answer, ".java") || strings.ContainsRune(answer, '/') {
			out[i] = FilepathToClasspath(answer, opts.IgnoreMethodNames)
		}
	}
	return out
}
