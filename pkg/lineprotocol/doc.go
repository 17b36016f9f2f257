// Package lineprotocol implements a codec for the InfluxDB v2 line protocol.
//
// Line Protocol Format:
//
//	measurement[,tag_key=tag_value...] field_key=field_value[,field_key=field_value...] [timestamp]
//
// Examples:
//
//	cpu,host=server01,region=us-west usage_idle=90.5,usage_system=2.1 1609459200000000000
//	temperature,sensor=bedroom temp=22.5
//	http_requests,method=GET,status=200 count=1i
//
// Decoding is pull based: a Reader walks the four elements of each line and
// hands key/value tokens to a record implementing Unmarshaler. Encoding is
// push based: a record implementing Marshaler feeds typed values into a
// Builder which escapes and joins them into one line. Point is a ready made
// record for callers that do not need their own types.
package lineprotocol
