package dposconsensus

// HashScheme is the set of hashes every node must compute identically.
type HashScheme interface {
	// OutValue returns the commitment for an in value.
	OutValue(inValue []byte) ([]byte, error)

	// Signature binds value to material that the signing miner
	// could not choose after seeing the result.
	Signature(material, value []byte) ([]byte, error)

	// Round returns a hash over every consensus-relevant field of r,
	// excluding miner-local in values.
	Round(r *Round) ([]byte, error)
}
