package img

// createConfig holds configuration for archive creation.
type createConfig struct {
	tag      string
	tagSet   bool
	openOpts []Option
}

// CreateOption configures archive creation.
type CreateOption func(*createConfig)

// CreateWithFormatTag sets the 4-byte format tag written to the header.
// The default is DefaultFormatTag.
func CreateWithFormatTag(tag string) CreateOption {
	return func(cfg *createConfig) {
		cfg.tag = tag
		cfg.tagSet = true
	}
}

// CreateWithOptions sets the options used to open the new archive.
func CreateWithOptions(opts ...Option) CreateOption {
	return func(cfg *createConfig) {
		cfg.openOpts = append(cfg.openOpts, opts...)
	}
}

// formatTag returns the configured tag as a header field.
func (cfg createConfig) formatTag() ([4]byte, error) {
	var out [4]byte
	tag := DefaultFormatTag
	if cfg.tagSet {
		tag = cfg.tag
	}
	if len(tag) != len(out) {
		return out, ErrInvalidTag
	}
	copy(out[:], tag)
	return out, nil
}
