// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import "fmt"

// ParseCAT returns the CA descriptors of a conditional access table section.
func ParseCAT(s Section) ([]CA, error) {
	if s.TableID != TableCAT {
		return nil, fmt.Errorf("%w: 0x%02x in cat", ErrTableID, s.TableID)
	}
	ds, err := ParseDescriptors(s.Body)
	if err != nil {
		return nil, err
	}
	return collectCA(ds), nil
}
