/*
Package models holds the pagination shared by spanrest servers and their clients.

Collections are cut into pages by NewPageRequest and Paginate. A page travels as an
Envelope body with its position repeated in the paging-* response headers, written by
Envelope.ToHeaders.

The readers are the client half of that header protocol. PagingReqFromParams and
PagingRespFromHeaders rebuild PagingReq and PagingResp from the headers of a paged
response; the server never calls them.
*/
package models
