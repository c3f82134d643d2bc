/*
Package transform is the native implementation of record transformation applied by the
stream executors before records are loaded into a sink.

Records are passed through unmodified, except for top-level properties deselected in
the catalog, which are removed. Client-provided custom transformation logic can instead
be added via the record hook function.
*/
package transform
