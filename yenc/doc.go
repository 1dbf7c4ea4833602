// Package yenc implements the yEnc 1.3 binary encoding used to carry
// article bodies over NNTP: parsing the "=ybegin"/"=ypart"/"=yend" control
// lines, decoding the escaped byte stream incrementally as it arrives off
// the wire, and validating the trailer's CRC32 against the decoded bytes.
package yenc
