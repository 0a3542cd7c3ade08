// Package model holds the roster domain types shared by every layer:
// forecast versions and their normalized tours, blocks, plan versions with
// their assignments and KPIs, audit records, disruptions and the coded
// errors returned by lifecycle operations.
package model
