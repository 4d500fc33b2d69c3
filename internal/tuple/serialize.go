package tuple

// The intermediate-file format (the -c switch): a short magic and
// version header followed by the gob encoding of the Program. The
// header makes files self-describing so an incompatible file is
// rejected up front instead of failing half-way through decoding.

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

var serializeMagic = [6]byte{'J', 'A', 'W', 'K', 'I', 'R'}

// serializeVersion is bumped whenever the Program or Tuple layout
// (or the opcode numbering) changes.
const serializeVersion uint32 = 1

// Serialize writes the program to w in the intermediate-file format.
func Serialize(p *Program, w io.Writer) error {
	bw := bufio.NewWriter(w)
	_, err := bw.Write(serializeMagic[:])
	if err != nil {
		return err
	}
	err = binary.Write(bw, binary.BigEndian, serializeVersion)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(bw).Encode(p)
	if err != nil {
		return err
	}
	return bw.Flush()
}

// Deserialize reads a program in the intermediate-file format,
// rejecting files with the wrong magic or version.
func Deserialize(r io.Reader) (*Program, error) {
	var magic [6]byte
	_, err := io.ReadFull(r, magic[:])
	if err != nil {
		return nil, fmt.Errorf("reading intermediate file header: %v", err)
	}
	if magic != serializeMagic {
		return nil, fmt.Errorf("not a Jawk intermediate file")
	}
	var version uint32
	err = binary.Read(r, binary.BigEndian, &version)
	if err != nil {
		return nil, fmt.Errorf("reading intermediate file version: %v", err)
	}
	if version != serializeVersion {
		return nil, fmt.Errorf("intermediate file version %d not supported (expected %d)",
			version, serializeVersion)
	}
	p := &Program{}
	err = gob.NewDecoder(r).Decode(p)
	if err != nil {
		return nil, fmt.Errorf("decoding intermediate file: %v", err)
	}
	// Re-run the post-process checks: the file may have been
	// corrupted or hand-edited, and the AVM assumes the invariants.
	err = PostProcess(p)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// IsSerialized reports whether the given source bytes look like an
// intermediate file rather than AWK source text.
func IsSerialized(src []byte) bool {
	return bytes.HasPrefix(src, serializeMagic[:])
}
