/*
Package ports defines the interfaces between the Pergola core and its
adapters (stores, loaders, transports), following Hexagonal Architecture.
Adapters depend on these contracts, never on concrete core types beyond the
domain package.
*/
package ports
