// Package codec implements the wire dialects spoken by supported AV devices.
//
// Each dialect provides a pure, side-effect-free translation between the
// canonical Command/Result/Reading model and device-specific bytes:
//
//   - JSONRPC: JSON-RPC 2.0 style DSP zone processors (CRLF-terminated frames)
//   - TextMatrix: terse "<input>X<output>." HDMI matrix switcher commands
//   - IRBlaster: Global Caché style "sendir,..." infrared transmitters
//
// Codecs hold no connection state and are safe for concurrent use; all
// normalisation of quirky wire shapes (object vs single-element array
// results, truncated IR captures) happens here and nowhere downstream.
package codec
