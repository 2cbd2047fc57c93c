package signal

import "fmt"

// ONNXConfig configures the optional ONNX ransomware classifier.
type ONNXConfig struct {
	ModelPath   string `yaml:"model_path"`
	LibraryPath string `yaml:"library_path"`
	InputName   string `yaml:"input_name"`
	OutputName  string `yaml:"output_name"`
}

// Config holds extractor tuning.
type Config struct {
	MaxBytes         int        `yaml:"max_bytes"`
	Keywords         []string   `yaml:"keywords"`
	KeywordSaturate  int        `yaml:"keyword_saturate"`
	EntropyLow       float64    `yaml:"entropy_low"`
	EntropyHigh      float64    `yaml:"entropy_high"`
	RansomExtensions []string   `yaml:"ransom_extensions"`
	RansomNotes      []string   `yaml:"ransom_notes"`
	Classifier       string     `yaml:"classifier"` // "heuristic" or "onnx"
	ONNX             ONNXConfig `yaml:"onnx"`
}

// DefaultKeywords are the context keywords counted by the heuristic extractor.
var DefaultKeywords = []string{
	"aadhaar", "pan", "credit card", "card number", "cvv", "upi",
	"password", "pwd", "passport", "passport no", "bank account",
	"account number", "ifsc", "salary", "payroll", "ssn", "social security",
	"secret", "confidential",
}

// DefaultRansomExtensions are suffixes appended by common ransomware families.
var DefaultRansomExtensions = []string{
	".encrypted", ".locked", ".crypt", ".crypted", ".enc", ".wncry", ".wcry",
	".locky", ".cerber", ".zepto", ".odin", ".ryk", ".conti", ".lockbit",
	".akira", ".blackcat", ".royal", ".phobos", ".djvu", ".stop", ".kraken",
}

// DefaultRansomNotes are phrases and file names typical of ransom notes.
var DefaultRansomNotes = []string{
	"your files have been encrypted",
	"all your files are encrypted",
	"to decrypt your files",
	"send bitcoin",
	"decryption key",
	"how_to_decrypt",
	"readme_for_decrypt",
	"restore-my-files",
}

// DefaultConfig returns the built-in extractor settings.
func DefaultConfig() Config {
	return Config{
		MaxBytes:         200_000,
		Keywords:         append([]string(nil), DefaultKeywords...),
		KeywordSaturate:  6,
		EntropyLow:       7.2,
		EntropyHigh:      7.9,
		RansomExtensions: append([]string(nil), DefaultRansomExtensions...),
		RansomNotes:      append([]string(nil), DefaultRansomNotes...),
		Classifier:       "heuristic",
		ONNX: ONNXConfig{
			InputName:  "features",
			OutputName: "logits",
		},
	}
}

// Validate checks extractor settings.
func (c Config) Validate() error {
	if c.MaxBytes <= 0 {
		return fmt.Errorf("extractors: max_bytes must be > 0, got %d", c.MaxBytes)
	}
	if c.KeywordSaturate < 1 {
		return fmt.Errorf("extractors: keyword_saturate must be >= 1, got %d", c.KeywordSaturate)
	}
	if c.EntropyLow >= c.EntropyHigh || c.EntropyHigh > 8 {
		return fmt.Errorf("extractors: need entropy_low < entropy_high <= 8, got %v/%v", c.EntropyLow, c.EntropyHigh)
	}
	switch c.Classifier {
	case "", "heuristic":
	case "onnx":
		if c.ONNX.ModelPath == "" {
			return fmt.Errorf("extractors: onnx classifier needs onnx.model_path")
		}
	default:
		return fmt.Errorf("extractors: unknown classifier %q", c.Classifier)
	}
	return nil
}
