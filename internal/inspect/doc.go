// Package inspect scans untrusted request text for known attack signatures:
// path traversal, script or markup injection, code execution calls and SQL
// injection tokens.
//
// Detection is regex based and therefore a heuristic filter, not a security
// boundary. The signature lists are ordered and deliberately incomplete; an
// attacker can evade them, and ordinary input (an apostrophe in a surname, a
// course called "Update Training") will sometimes match. Callers should treat
// a match as a signal to reject or alert on, never as proof that unmatched
// input is safe. Parameterised queries and output escaping remain required
// downstream.
package inspect
