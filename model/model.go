package model

// Config holds the resolved configuration for the main key-rotation run.
type Config struct {
	PrivateKey        string
	PublicKeys        []string
	AgeRecipients     []string
	ConfigPath        string
	GPGBinary         string
	GPGHome           string
	SopsBinary        string
	SecretFiles       []string
	NativeFingerprint bool
	DryRun            bool
}

// ScanConfig holds the configuration for the scan and rotate subcommands.
type ScanConfig struct {
	Root       string
	ConfigPath string
	SopsBinary string
}

// FingerprintConfig holds the configuration for the fingerprint subcommand.
type FingerprintConfig struct {
	Key       string
	GPGBinary string
	GPGHome   string
	Native    bool
}
