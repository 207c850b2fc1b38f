package acceptor

// Linux keeps the sender's descriptor referenced after the SCM_RIGHTS
// message is queued, so the accept loop must close its copy or it leaks
// one descriptor per connection. This is a known race between descriptor
// duplication semantics and teardown of the receiving context; do not
// unify with the BSD behavior without checking both for leaks.
const closeAfterHandoff = true
