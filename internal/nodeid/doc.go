/*
Package nodeid parses and formats task references.

A reference is either a bare task name, e.g. `fetch`, or a name followed by
a fan-out index, e.g. `fetch[2]`. Indexed ids are produced when a templated
task expands into several instances; a bare reference to such a task means
"every instance".
*/
package nodeid
