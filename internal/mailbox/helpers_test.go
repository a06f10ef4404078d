package mailbox_test

import "linksummary/internal/protocol"

func protocolManifest() protocol.Manifest {
	return protocol.Manifest{
		Version:  "1.0",
		Metadata: protocol.ManifestMetadata{Name: "test", Version: "0.1.0", Digest: "proto:abc"},
	}
}
