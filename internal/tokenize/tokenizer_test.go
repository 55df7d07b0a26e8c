package tokenize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noStemming() *Tokenizer {
	return New(WithStemming(false))
}

func TestTokenize_CamelCase(t *testing.T) {
	tok := noStemming()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"camelCase", "getUserById", []string{"get", "user", "id"}},
		{"PascalCase", "UserService", []string{"user", "service"}},
		{"acronym run", "parseHTTPRequest", []string{"parse", "http", "request"}},
		{"trailing acronym", "HTTPHandler", []string{"http", "handler"}},
		{"snake_case", "user_account_repository", []string{"user", "account", "repository"}},
		{"mixed", "find_userByEmail", []string{"find", "user", "email"}},
		{"punctuation", "repo.save(entity);", []string{"repo", "save", "entity"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tok.Tokenize(tt.input))
		})
	}
}

func TestTokenize_StopWords(t *testing.T) {
	tok := noStemming()

	// Language keywords are dropped.
	assert.Equal(t, []string{"string", "user", "name"},
		tok.Tokenize("public static final String userName"))

	// Structural words keep their retrieval signal.
	got := tok.Tokenize("class OrderController implements interface")
	assert.Contains(t, got, "class")
	assert.Contains(t, got, "controller")
	assert.Contains(t, got, "interface")
	assert.NotContains(t, got, "implements")
}

func TestTokenize_LengthFilter(t *testing.T) {
	tok := noStemming()
	assert.Equal(t, []string{"db"}, tok.Tokenize("x y z db"))
}

func TestTokenize_EmptyAndWhitespace(t *testing.T) {
	tok := noStemming()
	assert.Empty(t, tok.Tokenize(""))
	assert.Empty(t, tok.Tokenize("   \t\n  "))
	assert.Empty(t, tok.Tokenize("!!! ???"))
}

func TestTokenize_Stemming(t *testing.T) {
	tok := New()
	got := tok.Tokenize("running connections")
	assert.Equal(t, []string{"run", "connect"}, got)
}

func TestTokenize_Deterministic(t *testing.T) {
	tok := New()
	input := "OrderService.processPayment(order_id, userAccount)"
	first := tok.Tokenize(input)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, tok.Tokenize(input))
	}
}

func TestTokenize_IdempotentModuloStemming(t *testing.T) {
	tok := noStemming()
	input := "PaymentGatewayClient.refund_transaction(txnId)"

	once := tok.Tokenize(input)
	again := tok.Tokenize(strings.Join(once, " "))
	assert.Equal(t, once, again)
}

func TestFallback_CapsTokens(t *testing.T) {
	tok := noStemming()
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("token ")
	}
	got := tok.fallback(sb.String())
	assert.Len(t, got, fallbackTokenLimit)
}

func TestTokenize_CustomStopWords(t *testing.T) {
	tok := New(WithStemming(false), WithStopWords([]string{"foo"}))
	got := tok.Tokenize("foo bar public")
	// Custom stoplist replaces the default entirely.
	assert.Equal(t, []string{"bar", "public"}, got)
}
