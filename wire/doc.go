/*
Package wire implements the flat text encoding shob uses to carry shared object
mutations between processes. A message body is an ampersand-joined list of
key=value fields:

	mqsh.cmd=update&mqsh.subject=/eos/fst1&mqsh.type=hash&mqsh.pairs=|k1~v1%1|k2~v2%4

Multiplexed updates carry several subjects separated by '%' and prefix every key
with the zero-based index of its subject, e.g. '|#1#k~v%3'. A subject ending in
'/*' addresses every registered subject starting with the text before it.

CAUTION! The grammar has no escape mechanism. Keys and values must not contain
any of the delimiter characters '|', '~', '%', '&', '=' and must not start
with '#'. Callers are responsible for that, this package does not check it
when encoding.
*/
package wire
