package ports

// Tokenizer wraps session identifiers into bearer tokens handed to clients
type Tokenizer interface {
	// Encode returns the bearer form of a session identifier
	Encode(sessionToken, address string) (string, error)
	// Decode validates a bearer token and returns the session identifier
	Decode(bearer string) (string, error)
}
