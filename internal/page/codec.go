package page

// Compressor and Encryptor describe the callback contracts the block
// manager calls through when a page carries FlagCompressed/FlagEncrypted.
// Compression and encryption are external collaborators described only
// via these callback contracts. One real implementation of Compressor
// (zstd, codec_zstd.go) is wired so the contract has a concrete exerciser,
// but arbitrary plug-ins may implement either interface.
type Compressor interface {
	// Compress appends the compressed form of src to dst and returns it.
	Compress(dst, src []byte) ([]byte, error)
	// Decompress appends the decompressed form of src to dst and returns
	// it. originalLen is the uncompressed size recorded at compress time.
	Decompress(dst, src []byte, originalLen int) ([]byte, error)
}

type Encryptor interface {
	Encrypt(dst, src []byte) ([]byte, error)
	Decrypt(dst, src []byte) ([]byte, error)
}

// NopCompressor and NopEncryptor are identity implementations used when a
// file was opened without either plug-in configured.
type NopCompressor struct{}

func (NopCompressor) Compress(dst, src []byte) ([]byte, error) { return append(dst, src...), nil }
func (NopCompressor) Decompress(dst, src []byte, _ int) ([]byte, error) {
	return append(dst, src...), nil
}

type NopEncryptor struct{}

func (NopEncryptor) Encrypt(dst, src []byte) ([]byte, error) { return append(dst, src...), nil }
func (NopEncryptor) Decrypt(dst, src []byte) ([]byte, error) { return append(dst, src...), nil }
