package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coderag/coderag/internal/store"
)

func TestFilepathToClasspath(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		ignoreMethods bool
		want          string
	}{
		{
			name:          "main source root",
			path:          "src/main/java/com/skax/library/controller/BookController.java",
			ignoreMethods: true,
			want:          "com.skax.library.controller.BookController",
		},
		{
			name: "test source root",
			path: "src/test/java/com/skax/library/service/LoanServiceTest.java",
			want: "com.skax.library.service.LoanServiceTest",
		},
		{
			name: "no source root",
			path: "com/skax/library/model/Book.java",
			want: "com.skax.library.model.Book",
		},
		{
			name:          "method suffix trimmed",
			path:          "src/main/java/com/skax/BookController/getBook.java",
			ignoreMethods: true,
			want:          "com.skax.BookController",
		},
		{
			name:          "uppercase tail kept",
			path:          "src/main/java/com/skax/BookController.java",
			ignoreMethods: true,
			want:          "com.skax.BookController",
		},
		{
			name: "windows separators",
			path: `src\main\java\com\skax\Book.java`,
			want: "com.skax.Book",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilepathToClasspath(tt.path, tt.ignoreMethods))
		})
	}
}

func TestLooksLikeClasspath(t *testing.T) {
	assert.True(t, LooksLikeClasspath("com.skax.library.controller.BookController"))
	assert.False(t, LooksLikeClasspath("src/main/java/com/skax/BookController.java"))
	assert.False(t, LooksLikeClasspath("BookController.java"))
	assert.False(t, LooksLikeClasspath("plain text answer"))
}

func TestPredictionID(t *testing.T) {
	res := &store.RetrievalResult{
		Content:  "class BookController {}",
		FilePath: "src/main/java/com/skax/library/controller/BookController.java",
	}

	converted := PredictionID(res, NormalizeOptions{ConvertFilepathToClasspath: true})
	assert.Equal(t, "com.skax.library.controller.BookController", converted)

	raw := PredictionID(res, NormalizeOptions{})
	assert.Equal(t, "class BookController {}", raw)

	noPath := PredictionID(&store.RetrievalResult{Content: "c"}, NormalizeOptions{ConvertFilepathToClasspath: true})
	assert.Equal(t, "c", noPath)
}

func TestNormalizeGroundTruth(t *testing.T) {
	opts := NormalizeOptions{ConvertFilepathToClasspath: true}

	// Classpath-shaped entries pass through; file paths convert; the
	// two forms of the same class compare equal afterwards.
	out := NormalizeGroundTruth([]string{
		"com.skax.library.controller.BookController",
		"src/main/java/com/skax/library/controller/BookController.java",
		"free text answer",
	}, opts)

	assert.Equal(t, out[0], out[1])
	assert.Equal(t, "free text answer", out[2])
}

func TestNormalizeGroundTruth_MethodNames(t *testing.T) {
	opts := NormalizeOptions{ConvertFilepathToClasspath: true, IgnoreMethodNames: true}

	out := NormalizeGroundTruth([]string{"com.skax.library.controller.BookController.getBook"}, opts)
	assert.Equal(t, []string{"com.skax.library.controller.BookController"}, out)
}

func TestNormalizeGroundTruth_Disabled(t *testing.T) {
	in := []string{"src/main/java/com/skax/Book.java"}
	assert.Equal(t, in, NormalizeGroundTruth(in, NormalizeOptions{}))
}
