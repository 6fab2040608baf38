/*
Package script holds the Script data model and its JSON/YAML codec.

A Script is an ordered list of Contexts. Each Context carries matcher
Pipelines and a tree of Actions; Actions reference their children by id and
live in an arena on the Script, which keeps the playhead serializable as a
plain action id.

Decoding consults a Catalog of parameter descriptors to decide which
parameters are nested Pipelines. Legacy type names are renamed through the
migration table before lookup, and unknown types fail with an InvalidScript
error.
*/
package script
