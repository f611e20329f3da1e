// Package deb unpacks the data payload of a Debian 2.0 archive into a
// directory, confining every entry to the destination tree. Only the data
// member is materialized; control scripts are never executed.
package deb
