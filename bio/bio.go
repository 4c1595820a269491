// Package bio provides generic sequence and FASTA I/O shared by the
// alphabet-generic packages in this module. The codon-translation
// machinery from the teacher's bio package is gone: this module never
// assumes a nucleotide/codon alphabet, so GeneticCode/Translate have no
// home here. Likewise dropped are the FASTA-writing half of the
// teacher's package (Wrap, Sequence.String, Sequences.String) -- nothing
// in this module ever serialises a Sequences value back out, only
// parses one in from a fixture.
package bio

import (
	"errors"
	"io"
	"strings"
)

// Sequence pairs a name with a raw, ungapped residue string.
type Sequence struct {
	Name     string
	Sequence string
}

// Sequences stores multiple sequences, e.g. an alignment's rows.
type Sequences []Sequence

// ParseFasta parses FASTA records from a reader. Records are delimited
// by '>' rather than scanned line by line: the whole input is read up
// front and split on the delimiter, so a record's body may wrap at any
// column and carry any mix of whitespace, all of which is stripped
// before the residues are upper-cased and concatenated.
func ParseFasta(rd io.Reader) (Sequences, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	blocks := strings.Split(string(data), ">")
	if pre := strings.TrimSpace(blocks[0]); pre != "" {
		return nil, errors.New("bio: sequence data before any '>' header")
	}

	seqs := make(Sequences, 0, len(blocks)-1)
	for _, block := range blocks[1:] {
		header, body, _ := strings.Cut(block, "\n")
		seqs = append(seqs, Sequence{
			Name:     strings.TrimSpace(header),
			Sequence: strings.ToUpper(strings.Join(strings.Fields(body), "")),
		})
	}
	return seqs, nil
}
