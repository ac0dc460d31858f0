// Package contentblock defines the canonical typed message format exchanged
// between the prompt assembler, the agent graph engine, the provider
// adapters, and the transcript writer. ContentBlock is pure data; adapters
// own the translation to and from each provider's wire format.
package contentblock

// Kind discriminates the ContentBlock sum type.
type Kind string

const (
	KindText       Kind = "text"
	KindReasoning  Kind = "reasoning"
	KindToolCall   Kind = "tool_call"
	KindToolOutput Kind = "tool_output"
	KindImage      Kind = "image"
)

// Block is the atomic typed unit of a message. Exactly one of the payload
// fields is meaningful for a given Kind; callers should branch on Kind
// rather than check for nil fields. Blocks are immutable once appended to
// an AgentState — adapters and the transcript writer only ever read them.
type Block struct {
	Kind Kind

	// KindText
	Text string

	// KindReasoning
	Reasoning string
	// Extras carries provider-specific signatures (the Anthropic adapter's
	// thinking signature) needed to replay the turn verbatim on a
	// subsequent call. Adapters without a signature concept, the Gemini
	// adapter among them, leave this nil and drop reasoning on replay.
	Extras map[string]string

	// KindToolCall
	CallID string
	Name   string
	Args   map[string]any

	// KindToolOutput
	ToolCallID string
	Content    string

	// KindImage
	MimeType string
	Base64   []byte
}

// Text builds a text block.
func Text(text string) Block { return Block{Kind: KindText, Text: text} }

// Reasoning builds a reasoning block, optionally carrying replay extras.
func Reasoning(text string, extras map[string]string) Block {
	return Block{Kind: KindReasoning, Reasoning: text, Extras: extras}
}

// ToolCall builds a tool_call block. id is provider-scoped and correlates
// this call to its eventual tool_output.
func ToolCall(id, name string, args map[string]any) Block {
	return Block{Kind: KindToolCall, CallID: id, Name: name, Args: args}
}

// ToolOutput builds a tool_output block for the tool_call named by callID.
func ToolOutput(callID, content string) Block {
	return Block{Kind: KindToolOutput, ToolCallID: callID, Content: content}
}

// Image builds an image attachment block. base64 is raw bytes; callers
// base64-encode only at the wire/persistence boundary.
func Image(mimeType string, raw []byte) Block {
	return Block{Kind: KindImage, MimeType: mimeType, Base64: raw}
}

// Equal reports structural equality, used by the round-trip property tests
// in §8 (translate_to(translate_from(x)) == x).
func (b Block) Equal(other Block) bool {
	if b.Kind != other.Kind {
		return false
	}
	switch b.Kind {
	case KindText:
		return b.Text == other.Text
	case KindReasoning:
		if b.Reasoning != other.Reasoning || len(b.Extras) != len(other.Extras) {
			return false
		}
		for k, v := range b.Extras {
			if other.Extras[k] != v {
				return false
			}
		}
		return true
	case KindToolCall:
		if b.CallID != other.CallID || b.Name != other.Name || len(b.Args) != len(other.Args) {
			return false
		}
		for k, v := range b.Args {
			if other.Args[k] != v {
				return false
			}
		}
		return true
	case KindToolOutput:
		return b.ToolCallID == other.ToolCallID && b.Content == other.Content
	case KindImage:
		if b.MimeType != other.MimeType || len(b.Base64) != len(other.Base64) {
			return false
		}
		for i := range b.Base64 {
			if b.Base64[i] != other.Base64[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
