// Package mac parses and normalizes hardware (MAC) addresses.
//
// Two forms are handled:
//
//   - Canonical: upper-case hex octets separated by colons, exactly six
//     octets ("AA:BB:CC:DD:EE:FF"). Devices are keyed by this form.
//   - Wire input: any string that splits on ':' or '-' into six hex octets.
//     This is what the magic packet builder accepts.
//
// Free-form user input ("aabb.ccdd.eeff") is brought into canonical form by
// Normalize, which strips every non-hex character before regrouping.
package mac
